package media

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/utils"
	"github.com/pkg/errors"
)

// Loader stages source media into a local working directory
type Loader struct {
	httpclient *retryablehttp.Client
	url        string
}

// NewLoader creates a media loader for the configured object store
func NewLoader() (*Loader, error) {
	res := Loader{}
	var err error
	res.url, err = utils.GetURLFromConfig("storage.url")
	if err != nil {
		return nil, err
	}
	res.httpclient = retryablehttp.NewClient()
	res.httpclient.RetryMax = 3
	res.httpclient.Logger = nil
	return &res, nil
}

// Fetch downloads the source locator into dir and returns the local path.
// A locator pointing at an existing local file is returned as is
func (l *Loader) Fetch(ctx context.Context, source, dir string) (string, error) {
	if _, err := os.Stat(source); err == nil {
		cmdapp.Log.Debugf("Source is a local file: %s", source)
		return source, nil
	}
	urlStr := utils.URLJoin(l.url, source)
	cmdapp.Log.Infof("Downloading %s", utils.URLToLog(urlStr))

	req, err := retryablehttp.NewRequest(http.MethodGet, urlStr, nil)
	if err != nil {
		return "", errors.Wrap(err, "Can't prepare request")
	}
	req = req.WithContext(ctx)
	resp, err := l.httpclient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "Can't download source")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", errors.Errorf("source not found: %s", source)
	}
	if err := utils.ValidateResponse(resp); err != nil {
		return "", errors.Wrap(err, "Can't download source")
	}

	target := filepath.Join(dir, "input"+filepath.Ext(source))
	f, err := os.Create(target)
	if err != nil {
		return "", errors.Wrap(err, "Can't create file "+target)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", errors.Wrap(err, "Can't save file "+target)
	}
	return target, nil
}
