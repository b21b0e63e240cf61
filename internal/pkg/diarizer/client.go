package diarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/speaker"
	"github.com/voicegrid/transched/internal/pkg/utils"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// TurnClient talks to the speaker turn detection model server.
// It implements speaker.TurnDetector.
type TurnClient struct {
	httpclient *http.Client
	url        string
}

// NewTurnClient creates a turn detection client from config
func NewTurnClient() (*TurnClient, error) {
	urlStr, err := utils.GetURLFromConfig("diarizer.url")
	if err != nil {
		return nil, err
	}
	return &TurnClient{url: urlStr, httpclient: newHTTPClient()}, nil
}

// Load asks the server to bring the turn detection model into memory
func (c *TurnClient) Load(ctx context.Context) error {
	return invoke(ctx, c.httpclient, utils.URLJoin(c.url, "load"), nil, nil)
}

// Unload drops the turn detection model from the server's memory
func (c *TurnClient) Unload(ctx context.Context) error {
	return invoke(ctx, c.httpclient, utils.URLJoin(c.url, "unload"), nil, nil)
}

type detectRequest struct {
	Files []string `json:"files"`
}

type turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

type detectResponse struct {
	Turns []turn `json:"turns"`
}

// Detect runs turn detection over files treated as one contiguous recording.
// Returned turn times are relative to the start of the first file.
func (c *TurnClient) Detect(ctx context.Context, files []string) ([]speaker.Turn, error) {
	var res detectResponse
	err := invoke(ctx, c.httpclient, utils.URLJoin(c.url, "detect"), detectRequest{Files: files}, &res)
	if err != nil {
		return nil, err
	}
	turns := make([]speaker.Turn, len(res.Turns))
	for i, t := range res.Turns {
		turns[i] = speaker.Turn{Start: t.Start, End: t.End, Speaker: t.Speaker}
	}
	return turns, nil
}

// EmbedClient talks to the speaker embedding model server.
// It implements speaker.Embedder.
type EmbedClient struct {
	httpclient *http.Client
	url        string
}

// NewEmbedClient creates a speaker embedding client from config
func NewEmbedClient() (*EmbedClient, error) {
	urlStr, err := utils.GetURLFromConfig("embedder.url")
	if err != nil {
		return nil, err
	}
	return &EmbedClient{url: urlStr, httpclient: newHTTPClient()}, nil
}

// Load asks the server to bring the embedding model into memory
func (c *EmbedClient) Load(ctx context.Context) error {
	return invoke(ctx, c.httpclient, utils.URLJoin(c.url, "load"), nil, nil)
}

// Unload drops the embedding model from the server's memory
func (c *EmbedClient) Unload(ctx context.Context) error {
	return invoke(ctx, c.httpclient, utils.URLJoin(c.url, "unload"), nil, nil)
}

type embedRequest struct {
	File  string  `json:"file"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed returns the speaker embedding of one span of an audio file
func (c *EmbedClient) Embed(ctx context.Context, file string, start, end float64) ([]float32, error) {
	var res embedResponse
	err := invoke(ctx, c.httpclient, utils.URLJoin(c.url, "embed"),
		embedRequest{File: file, Start: start, End: end}, &res)
	if err != nil {
		return nil, err
	}
	if len(res.Vector) == 0 {
		return nil, errors.New("empty embedding vector")
	}
	return res.Vector, nil
}

func newHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return rc.StandardClient()
}

func invoke(ctx context.Context, client *http.Client, urlStr string, in, out interface{}) error {
	b := bytes.NewBuffer(nil)
	if in != nil {
		if err := json.NewEncoder(b).Encode(in); err != nil {
			return errors.Wrap(err, "Can't encode request")
		}
	}
	req, err := http.NewRequest(http.MethodPost, urlStr, b)
	if err != nil {
		return errors.Wrapf(err, "Can't prepare request to '%s'", urlStr)
	}
	req.Header.Set("Content-Type", "application/json")
	cmdapp.Log.Infof("Diarizer call %s", urlStr)
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "Can't call '%s'", urlStr)
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return errors.Wrapf(err, "Can't invoke '%s'", urlStr)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "Can't decode response")
		}
	}
	return nil
}
