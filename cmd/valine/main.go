package main

import (
	"log"

	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
