package main

import "github.com/tatianab/chronicle/cmd/chronicle/root"

func main() {
	root.Execute()
}
