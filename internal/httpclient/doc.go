// Package httpclient is the fetch primitive of the session engine.
//
// A [Fetcher] performs one HTTP exchange at a time for one virtual user:
//
//	f, err := httpclient.New(httpclient.Options{Timeout: 30 * time.Second})
//	resp, err := f.Fetch(ctx, httpclient.Request{Method: "GET", URL: "http://shop.local/"})
//
// Fetchers keep a cookie jar, can present a TLS client certificate and never
// follow redirects: the session resolves each hop itself so that every hop is
// recorded.
//
// # Pages
//
// [ParseDocument] extracts anchors, the base href and the embedded resources
// a browser would load with a page.
//
// # XML-RPC
//
// [Fetcher.CallXMLRPC] performs a method call through the same transport,
// returning [XMLRPCFault] when the server answers with a fault.
package httpclient
