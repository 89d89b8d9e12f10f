package common

import (
	"bytes"
	"testing"
)

func TestClassifyPriority(t *testing.T) {
	cases := map[string]Priority{
		"auth.signIn":          PriorityAuth,
		"account.login":        PriorityAuth,
		"messages.sendMessage": PriorityMessage,
		"messages.getHistory":  PriorityMessage,
		"photos.getPhotos":     PriorityMedia,
		"upload.saveDocument":  PriorityMedia,
		"users.getUsers":       PriorityOther,
		"":                     PriorityOther,
	}
	for method, want := range cases {
		if got := ClassifyPriority(method); got != want {
			t.Errorf("ClassifyPriority(%q) = %s, want %s", method, got, want)
		}
	}
}

func TestIsBatchable(t *testing.T) {
	for _, method := range []string{"auth.signIn", "upload.saveFilePart", "upload.getFile", "Account.Login", "media.download"} {
		if IsBatchable(method) {
			t.Errorf("Expected %s not to be batchable", method)
		}
	}
	for _, method := range []string{"users.getUsers", "messages.sendMessage"} {
		if !IsBatchable(method) {
			t.Errorf("Expected %s to be batchable", method)
		}
	}
}

func TestIsCacheable(t *testing.T) {
	if !IsCacheable("USERS.GETME", DefaultCacheableMethods) {
		t.Error("Expected allow-list match to be case-insensitive")
	}
	if IsCacheable("messages.sendMessage", DefaultCacheableMethods) {
		t.Error("Did not expect sendMessage to be cacheable")
	}
}

func TestMessageClone(t *testing.T) {
	orig := NewContainer([]Message{*NewRequest("a", []byte("1")), *NewRequest("b", []byte("2"))})
	clone := orig.Clone()

	clone.Children[0].Payload[0] = 'x'
	clone.Children[1].Method = "c"
	if !bytes.Equal(orig.Children[0].Payload, []byte("1")) || orig.Children[1].Method != "b" {
		t.Error("Clone shares state with the original")
	}
	if (*Message)(nil).Clone() != nil {
		t.Error("Expected clone of nil to be nil")
	}
}
