package main

import "github.com/vibast-solutions/ms-go-stripe-reconciler/cmd"

func main() {
	cmd.Execute()
}
