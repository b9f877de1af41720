// Command caremax runs the multi-tenant customer support agent.
package main

func main() {
	Execute()
}
