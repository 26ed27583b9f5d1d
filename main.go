package main

import "github.com/lmroute/gemini-bridge/cmd"

func main() {
	cmd.Execute()
}
