// Package main implements the teo CLI.
package main

func main() {
	Execute()
}
