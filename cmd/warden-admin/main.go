// ABOUTME: Entry point for the warden admin CLI
// ABOUTME: Manages devices, API keys, session keys, and the emergency stop

package main

func main() {
	Execute()
}
