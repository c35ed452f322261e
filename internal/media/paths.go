// Package media owns the object-storage key layout and the S3 uploader.
package media

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// DocumentKinds are the images a driver application must include.
var DocumentKinds = []string{"id", "license", "car"}

func ProfilePicture(uid string) string {
	return "profilePictures/" + uid
}

func CommunityLogo(communityID string) string {
	return "community_logos/" + communityID + ".jpg"
}

func BusinessCover(uid string, at time.Time) string {
	return fmt.Sprintf("business_covers/%s/%d", uid, at.UnixMilli())
}

func CatalogImage(uid string, at time.Time, name string) string {
	return fmt.Sprintf("business_catalog/%s/%d_%s", uid, at.UnixMilli(), clean(name))
}

func GroupChatMedia(communityID, groupID, uid, filename string) string {
	return path.Join("group_chat_media", communityID, groupID, uid, clean(filename))
}

func ChatMedia(chatID, uid string, at time.Time, filename string) string {
	return fmt.Sprintf("chat_media/%s/%s_%d_%s", chatID, uid, at.UnixMilli(), clean(filename))
}

// DriverApplicationDoc returns the key for one onboarding image. kind must
// be one of DocumentKinds.
func DriverApplicationDoc(uid, kind string) (string, error) {
	for _, k := range DocumentKinds {
		if k == kind {
			return "driver_applications/" + uid + "/" + kind + ".jpg", nil
		}
	}
	return "", fmt.Errorf("unknown driver document kind %q", kind)
}

// clean keeps client file names from escaping their prefix.
func clean(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}
