package main

import (
	"log"

	"ticket-reconciler/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
