// Package httpadapter provides a pipeline.Adapter that performs one HTTP request
// per leaf stage.
//
// A stage config is a Request, a *Request, or a map[string]interface{} with the
// same keys (method, url, header, query, body), as produced by decoding YAML or
// JSON. Relative URLs are resolved against WithBaseURL; the final URL must be
// http or https with a host. Non-nil bodies other than []byte and string are
// JSON-encoded.
//
// GetResult turns the raw *Response into the stage's view: non-2xx statuses fail
// with *StatusError, JSON bodies are decoded into interface{} values
// (map[string]interface{} for objects), other bodies become strings. Values that
// are not a *Response, such as the output of a nested pipeline, pass through.
//
//	a, err := httpadapter.New(httpadapter.WithBaseURL("https://api.example.com"))
//	p := pipeline.Begin(pipeline.Leaf(httpadapter.Get("/u/1")), a).
//	    Next(pipeline.LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
//	        id := prev.(map[string]interface{})["id"]
//	        return httpadapter.Get(fmt.Sprintf("/u/%v/posts", id)), nil
//	    }))
package httpadapter
