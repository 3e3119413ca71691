package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

func TestS3StorePresignIsTimeLimited(t *testing.T) {
	store := NewS3StoreFromConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	}, S3Options{Bucket: "protect-bucket"})

	raw, err := store.Presign(context.Background(), "protection/u/a.png", 10*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasSuffix(u.Host, "amazonaws.com") || !strings.HasPrefix(u.Host, "protect-bucket.") {
		t.Fatalf("unexpected host %s", u.Host)
	}
	if u.Path != "/protection/u/a.png" {
		t.Fatalf("unexpected path %s", u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "600" {
		t.Fatalf("X-Amz-Expires = %q, want 600", got)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Fatalf("missing signature in %s", raw)
	}
}
