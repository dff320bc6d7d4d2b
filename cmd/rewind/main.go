// Command rewind runs the session replay server and offers offline tools
// over its store.
package main

func main() {
	Execute()
}
