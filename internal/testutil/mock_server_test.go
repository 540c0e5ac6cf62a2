package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestMockServerFullDownload(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(64*1024), WithRangeSupport(true))
	defer server.Close()

	resp, err := http.Get(server.URL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if int64(len(data)) != 64*1024 {
		t.Errorf("expected 64KiB, got %d bytes", len(data))
	}

	stats := server.Stats()
	if stats.FullRequests != 1 {
		t.Errorf("expected 1 full request, got %d", stats.FullRequests)
	}
}

func TestMockServerRangeRequest(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(64*1024), WithRangeSupport(true))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL(), nil)
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("expected 206, got %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 1024 {
		t.Errorf("expected 1024 bytes, got %d", len(data))
	}

	stats := server.Stats()
	if stats.RangeRequests != 1 {
		t.Errorf("expected 1 range request, got %d", stats.RangeRequests)
	}
}

func TestMockServerFailOnNthRequest(t *testing.T) {
	server := NewMockServerT(t, WithFileSize(4096), WithFailOnNthRequest(1))
	defer server.Close()

	resp, err := http.Get(server.URL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 on first request, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(server.URL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected 200 on second request, got %d", resp2.StatusCode)
	}
}
