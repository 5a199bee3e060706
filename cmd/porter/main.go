// Command porter runs the Porter gateway: a process that fronts
// subprocess/HTTP MCP-style servers and CLI-wrapped programs as one
// namespaced tool catalog, reachable over stdio or Streamable HTTP.
package main

func main() {
	Execute()
}
