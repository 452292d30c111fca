// proxy is the native endpoint: it dials back to a controller over
// loopback TCP, performs the process-proxy handshake, and then serves
// command requests against its own stdin, stdout, stderr, cwd, env, and
// exit status until the controller closes the connection or sends EXIT.
//
// Configuration is exclusively environment-variable driven (see
// internal/endpoint.PortVar, internal/endpoint.TokenVar) — there are no
// flags, since the controller that spawns this process is the one
// external collaborator in charge of its invocation (spec §1, §6).
package main

import (
	"log"
	"os"

	"github.com/niik/process-proxy/internal/endpoint"
)

func main() {
	ep, err := endpoint.Dial()
	if err != nil {
		code := 1
		if bootErr, ok := err.(*endpoint.BootError); ok {
			code = bootErr.Code
		}
		log.Printf("process-proxy: %v", err)
		os.Exit(code)
	}

	os.Exit(ep.Run())
}
