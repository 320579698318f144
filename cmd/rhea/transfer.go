package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rhea-ai/rhea/pkg/httpclient"
)

type uploadCmd struct {
	Input string `arg:"" help:"Input file." type:"existingfile"`
	URL   string `help:"URL of the Rhea server." default:"http://localhost:3001"`
	Name  string `help:"Name for the uploaded file (default: basename)."`
}

func (c *uploadCmd) Run() error {
	contents, err := os.ReadFile(c.Input)
	if err != nil {
		return err
	}
	name := c.Name
	if name == "" {
		name = filepath.Base(c.Input)
	}

	header := http.Header{
		"Content-Type":   {"application/octet-stream"},
		"x-filename":     {name},
		"Content-Length": {fmt.Sprintf("%d", len(contents))},
	}

	client := httpclient.New()
	resp, err := client.Do(context.Background(), http.MethodPost, c.URL+"/upload", contents, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload failed: %s: %s", resp.Status, string(body))
	}

	var decoded struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	fmt.Println(decoded.Key)
	return nil
}

type downloadCmd struct {
	Key       string `arg:"" help:"Handle of the stored file."`
	URL       string `help:"URL of the Rhea server." default:"http://localhost:3001"`
	OutputDir string `help:"Output directory." default:"." type:"existingdir"`
}

var contentDispositionFilename = regexp.MustCompile(`filename\*?=(?:UTF-8'')?"?([^";]+)"?`)

func (c *downloadCmd) Run() error {
	client := httpclient.New()
	resp, err := client.Do(context.Background(), http.MethodGet,
		c.URL+"/download?key="+url.QueryEscape(c.Key), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	m := contentDispositionFilename.FindStringSubmatch(resp.Header.Get("Content-Disposition"))
	if m == nil {
		return fmt.Errorf("could not find filename in Content-Disposition")
	}
	name := filepath.Base(m[1])

	target := filepath.Join(c.OutputDir, name)
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s to %s (%d bytes)\n", name, target, written)
	return nil
}
