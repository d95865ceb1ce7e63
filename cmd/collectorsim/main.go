// Collector Simulator - local stand-in for the interview collector.
// Accepts the relay's authenticated WebSocket session and logs every
// envelope it receives, grouped by type.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type envelope struct {
	Type  string          `json:"type"`
	Email string          `json:"email,omitempty"`
	Data  json.RawMessage `json:"buffer,omitempty"`
}

func verifyToken(secret, header string) error {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing bearer token")
	}
	token, err := jwt.Parse(strings.TrimPrefix(header, prefix), func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["type"] != "media-bot" {
		return fmt.Errorf("unexpected token claims")
	}
	return nil
}

func handle(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyToken(secret, r.Header.Get("Authorization")); err != nil {
			log.Printf("Rejected connection: %v", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("Relay connected from %s", r.RemoteAddr)

		counts := make(map[string]int)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Relay disconnected: %v", err)
				break
			}
			var env envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				log.Printf("Unparseable envelope (%d bytes): %v", len(msg), err)
				continue
			}
			counts[env.Type]++
			switch env.Type {
			case "audio":
				log.Printf("[audio #%d] %s payload=%dB", counts[env.Type], env.Email, len(env.Data))
			default:
				log.Printf("[%s #%d] %s", env.Type, counts[env.Type], string(msg))
			}
		}

		log.Printf("Session summary: %v", counts)
	}
}

func main() {
	addr := flag.String("addr", ":8443", "listen address")
	path := flag.String("path", "/ws", "websocket path")
	secret := flag.String("secret", "dev-secret", "shared JWT secret")
	flag.Parse()

	http.HandleFunc(*path, handle(*secret))
	log.Printf("Collector simulator listening on %s%s", *addr, *path)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
