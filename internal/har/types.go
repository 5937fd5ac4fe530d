// Package har turns a browser HTTP archive into a scenario file, so a
// navigation recorded with the browser developer tools can be replayed by
// the bench command.
package har

// HAR is the subset of the HAR 1.2 document read by the recorder.
type HAR struct {
	Log *Log `json:"log"`
}

type Log struct {
	Version string   `json:"version"`
	Pages   []*Page  `json:"pages,omitempty"`
	Entries []*Entry `json:"entries"`
}

type Page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Entry is one request/response exchange, in capture order.
type Entry struct {
	PageRef  string    `json:"pageref,omitempty"`
	Request  *Request  `json:"request"`
	Response *Response `json:"response"`
}

type Request struct {
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Headers  []*Header `json:"headers"`
	PostData *PostData `json:"postData,omitempty"`
}

type Response struct {
	Status      int    `json:"status"`
	RedirectURL string `json:"redirectURL"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string       `json:"mimeType"`
	Params   []*PostParam `json:"params,omitempty"`
	Text     string       `json:"text,omitempty"`
}

type PostParam struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}
