// Command hubwatch connects to a pub/sub hub and inspects its terminals,
// namespace and transport connections.
package main

func main() {
	Execute()
}
