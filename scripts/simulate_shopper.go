// Traffic driver for manual gateway testing: replays a shopper session
// (browse, add to cart, inspect, empty) against a running obj-mode gateway.
package main

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	gateway := "http://localhost:8080"
	if len(os.Args) > 1 {
		gateway = os.Args[1]
	}
	user := "alice"
	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Printf("🛒 Shopper session against %s (user=%s)\n", gateway, user)

	get := func(path string) {
		resp, err := client.Get(gateway + path)
		if err != nil {
			log.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		fmt.Printf("GET  %-20s -> %d\n", path, resp.StatusCode)
	}
	post := func(path string, form url.Values) {
		resp, err := client.PostForm(gateway+path, form)
		if err != nil {
			log.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		fmt.Printf("POST %-20s -> %d\n", path, resp.StatusCode)
	}

	get("/?user=" + user)
	get("/product/OLJCESPC7Z?user=" + user)

	post("/cart", url.Values{
		"product_id": {"OLJCESPC7Z"},
		"quantity":   {"1"},
		"user":       {user},
	})
	time.Sleep(200 * time.Millisecond)
	get("/cart?user=" + user)

	post("/cart/empty", url.Values{"user": {user}})
	time.Sleep(200 * time.Millisecond)
	get("/cart?user=" + user)

	post("/setCurrency", url.Values{"currency_code": {"EUR"}})
	get("/logout?user=" + user)

	fmt.Println("✅ Session complete — check the gateway's verdict tables.")
}
