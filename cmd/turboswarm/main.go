// Command turboswarm runs and serves Turbo Swarm orchestration sessions.
package main

func main() {
	Execute()
}
