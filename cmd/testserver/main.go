// Command testserver runs the demo shop application that example scenarios
// and helper tests drive.
//
// Usage:
//
//	testserver [flags]
//
// Flags:
//
//	-port    Port to listen on (default: 8080)
//	-host    Host to bind to (default: localhost)
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"conductor/testserver"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	host := flag.String("host", "localhost", "host to bind to")
	flag.Parse()

	server := testserver.NewServer()
	addr := fmt.Sprintf("%s:%d", *host, *port)

	fmt.Println("Conductor Demo Shop")
	fmt.Println("===================")
	fmt.Printf("Listening on http://%s\n\n", addr)
	fmt.Println("API:")
	fmt.Println("  GET    /health            - Health check")
	fmt.Println("  GET    /status/{code}     - Return specific status code")
	fmt.Println("  GET    /delay/{ms}        - Delay response by milliseconds")
	fmt.Println("  POST   /echo              - Echo request body")
	fmt.Println("  GET    /headers           - Echo request headers as JSON")
	fmt.Println("  GET    /flaky/{key}       - Fail until the key's counter passes ?fails=N")
	fmt.Println("  POST   /auth/login        - Issue a token for valid credentials")
	fmt.Println("  GET    /api/items         - List items")
	fmt.Println("  POST   /api/items         - Create an item")
	fmt.Println("  GET    /api/items/{id}    - Fetch an item")
	fmt.Println("  PUT    /api/items/{id}    - Update an item")
	fmt.Println("  DELETE /api/items/{id}    - Delete an item")
	fmt.Println("Pages:")
	fmt.Println("  GET    /                  - Home page")
	fmt.Println("  GET    /items             - Item list")
	fmt.Println("  GET    /items/{id}        - Item detail")
	fmt.Println("  GET    /login             - Login form")
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		os.Exit(0)
	}()

	log.Fatal(http.ListenAndServe(addr, server.Handler()))
}
