// Package main provides the entry point for the web-runner CLI.
package main

import "yqhp/web-runner/cmd"

func main() {
	cmd.Execute()
}
