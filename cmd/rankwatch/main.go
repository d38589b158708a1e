package main

import (
	"os"

	"horse.fit/rankwatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
