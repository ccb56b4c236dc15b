package main

import (
	"context"
	"flag"
	"log"
	"os"

	invitectl "github.com/edwardsharp/wild-ai-adventure/internal/cmd/invitectl"
)

func main() {
	cfg, err := invitectl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if err := invitectl.Run(context.Background(), cfg, os.Stdout); err != nil {
		log.Fatalf("invitectl: %v", err)
	}
}
