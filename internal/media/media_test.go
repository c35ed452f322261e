package media

import (
	"testing"
	"time"
)

func TestStoragePaths(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	cases := []struct{ got, want string }{
		{ProfilePicture("u1"), "profilePictures/u1"},
		{CommunityLogo("c1"), "community_logos/c1.jpg"},
		{BusinessCover("u1", at), "business_covers/u1/1700000000123"},
		{CatalogImage("u1", at, "bread.png"), "business_catalog/u1/1700000000123_bread.png"},
		{GroupChatMedia("c1", "g1", "u1", "pic.jpg"), "group_chat_media/c1/g1/u1/pic.jpg"},
		{ChatMedia("chat1", "u1", at, "voice.m4a"), "chat_media/chat1/u1_1700000000123_voice.m4a"},
		{GroupChatMedia("c1", "g1", "u1", "../../etc/pwd"), "group_chat_media/c1/g1/u1/pwd"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %s want %s", c.got, c.want)
		}
	}
}

func TestDriverApplicationDoc(t *testing.T) {
	for _, k := range DocumentKinds {
		key, err := DriverApplicationDoc("d1", k)
		if err != nil || key != "driver_applications/d1/"+k+".jpg" {
			t.Fatalf("%s: %s %v", k, key, err)
		}
	}
	if _, err := DriverApplicationDoc("d1", "selfie"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestURL(t *testing.T) {
	u := &S3Uploader{Bucket: "b", Region: "af-south-1"}
	if got := u.URL("k.jpg"); got != "https://b.s3.af-south-1.amazonaws.com/k.jpg" {
		t.Fatalf("got %s", got)
	}
	u.CloudFrontDomain = "cdn.example.com"
	if got := u.URL("k.jpg"); got != "https://cdn.example.com/k.jpg" {
		t.Fatalf("got %s", got)
	}
}
