// Command opaque-keygen mints a server keypair and prints the private scalar
// base64-encoded, ready for the SERVER_KEYPAIR binding of opaque-authd. The
// key must be generated once per deployment and pinned: rotating it orphans
// every credential file registered under the old key.
package main

import (
	"encoding/base64"
	"fmt"
	"log"

	"github.com/tomvardasca/opaque-authd/opaque"
)

func main() {
	key := opaque.NewKeyPair()

	private, err := key.Bytes()
	if err != nil {
		log.Fatalf("marshal private key: %v", err)
	}
	public, err := key.PublicBytes()
	if err != nil {
		log.Fatalf("marshal public key: %v", err)
	}

	fmt.Printf("SERVER_KEYPAIR=%s\n", base64.StdEncoding.EncodeToString(private))
	fmt.Printf("# public key: %s\n", base64.StdEncoding.EncodeToString(public))
}
