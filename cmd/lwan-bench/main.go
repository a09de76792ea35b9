// lwan-bench is a small load generator for exercising a running server.
package main

import (
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "server address")
	path := flag.String("path", "/", "request path")
	conns := flag.Int("c", 16, "concurrent connections")
	duration := flag.Duration("d", 10*time.Second, "test duration")
	flag.Parse()

	client := &fasthttp.HostClient{
		Addr:     *addr,
		MaxConns: *conns * 2,
	}
	url := "http://" + *addr + *path

	var ok, failed, bytes uint64
	deadline := time.Now().Add(*duration)

	var wg sync.WaitGroup
	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := fasthttp.AcquireRequest()
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseRequest(req)
			defer fasthttp.ReleaseResponse(resp)
			req.SetRequestURI(url)

			for time.Now().Before(deadline) {
				if err := client.Do(req, resp); err != nil {
					atomic.AddUint64(&failed, 1)
					continue
				}
				if resp.StatusCode() == fasthttp.StatusOK {
					atomic.AddUint64(&ok, 1)
				} else {
					atomic.AddUint64(&failed, 1)
				}
				atomic.AddUint64(&bytes, uint64(len(resp.Body())))
				resp.Reset()
				req.SetRequestURI(url)
			}
		}()
	}
	wg.Wait()

	secs := duration.Seconds()
	fmt.Printf("requests:  %d ok, %d failed\n", ok, failed)
	fmt.Printf("rate:      %.0f req/s\n", float64(ok)/secs)
	fmt.Printf("body read: %d bytes\n", bytes)
}
