package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kolo/xmlrpc"

	"github.com/torosent/crankbench/internal/tracing"
)

// XMLRPCFault is returned when the server answers a call with a fault.
type XMLRPCFault struct {
	Code   int
	String string
}

func (f *XMLRPCFault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.String)
}

// CallXMLRPC invokes method on the XML-RPC endpoint at url. The request goes
// through the Fetcher's transport with header added to every request. Basic
// credentials are taken from the url user info.
func (f *Fetcher) CallXMLRPC(ctx context.Context, url, method string, params []interface{}, header http.Header) (interface{}, error) {
	rt := &headerTransport{base: f.client.Transport, header: header, ctx: ctx, propagate: f.propagate}
	client, err := xmlrpc.NewClient(url, rt)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var args interface{}
	if len(params) > 0 {
		args = params
	}
	var reply interface{}
	if err := client.Call(method, args, &reply); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return nil, &XMLRPCFault{Code: fault.Code, String: fault.String}
		}
		return nil, err
	}
	return reply, nil
}

type headerTransport struct {
	base      http.RoundTripper
	header    http.Header
	ctx       context.Context
	propagate bool
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(t.ctx)
	for key, values := range t.header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if t.propagate {
		tracing.InjectHTTPHeaders(t.ctx, req.Header)
	}
	return t.base.RoundTrip(req)
}
