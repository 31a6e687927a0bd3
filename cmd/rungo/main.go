// Command rungo is a command line client for a running rungod.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/celerix-dev/rungodb/pkg/docstore"
	"github.com/celerix-dev/rungodb/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	addr := os.Getenv("RUNGO_STORE_ADDR")
	if addr == "" {
		addr = "localhost:7001"
	}

	client, err := sdk.Connect(addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	defer client.Close()

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "INSERT":
		if len(args) < 2 {
			log.Fatal("Usage: rungo INSERT <container> <json-object>")
		}
		var entity any
		if err := json.Unmarshal([]byte(args[1]), &entity); err != nil {
			log.Fatalf("Invalid JSON: %v", err)
		}
		uid, err := client.Insert(args[0], entity)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(uid)

	case "QUERY":
		if len(args) < 1 {
			log.Fatal("Usage: rungo QUERY <container> [json-predicate]")
		}
		p := parsePredicate(args[1:])
		found, err := client.Query(args[0], p)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(found)

	case "DELETE":
		if len(args) < 1 {
			log.Fatal("Usage: rungo DELETE <container> [json-predicate]")
		}
		p := parsePredicate(args[1:])
		n, err := client.Delete(args[0], p)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Deleted %d\n", n)

	case "EXPORT":
		tree, err := client.Export()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(tree)

	case "LIST":
		names, err := client.Containers()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(names)

	case "PING":
		if err := client.Ping(); err != nil {
			log.Fatal(err)
		}
		fmt.Println("PONG")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func parsePredicate(args []string) docstore.Predicate {
	if len(args) == 0 {
		return nil
	}
	var p docstore.Predicate
	if err := json.Unmarshal([]byte(args[0]), &p); err != nil {
		log.Fatalf("Predicate must be a JSON object: %v", err)
	}
	return p
}

func printUsage() {
	fmt.Println("rungo - command line client for rungod")
	fmt.Println("\nUsage:")
	fmt.Println("  rungo INSERT <container> <json-object>")
	fmt.Println("  rungo QUERY <container> [json-predicate]")
	fmt.Println("  rungo DELETE <container> [json-predicate]")
	fmt.Println("  rungo EXPORT")
	fmt.Println("  rungo LIST")
	fmt.Println("  rungo PING")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  RUNGO_STORE_ADDR    Address of the store (default: localhost:7001)")
	fmt.Println("  RUNGO_DISABLE_TLS   Set to true to disable TLS")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
