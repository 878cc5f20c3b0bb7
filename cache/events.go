// Package cache turns mutation events into cache tags and delivers them to a tag store.
package cache

import (
	"gallery/models"
	"sort"
	"strconv"
)

const (
	TagImageList   = "photos_image_list"
	TagNodeList    = "node_list"
	TagRecentImage = "photos:image:recent"
)

func AlbumTag(albumID uint64) string      { return "album:" + strconv.FormatUint(albumID, 10) }
func PhotosAlbumTag(albumID uint64) string { return "photos:album:" + strconv.FormatUint(albumID, 10) }
func ImageTag(imageID uint64) string       { return "photos:image:" + strconv.FormatUint(imageID, 10) }
func UserImageTag(userID uint64) string    { return "photos:image:user:" + strconv.FormatUint(userID, 10) }
func UserAlbumTag(userID uint64) string    { return "photos:album:user:" + strconv.FormatUint(userID, 10) }

// Event is a mutation that makes cached renderings stale.
// The set of events is closed: only this package can implement it.
type Event interface {
	Kind() string
	tags() []string
}

type ImageCreated struct {
	ImageID uint64
	AlbumID uint64
	UserID  uint64
}

type ImageUpdated struct {
	ImageID         uint64
	AlbumID         uint64
	UserID          uint64
	PreviousAlbumID uint64 // Zero or equal to AlbumID when the image did not move
	PreviousUserID  uint64
}

type ImageDeleted struct {
	ImageID uint64
	AlbumID uint64
	UserID  uint64
}

type AlbumCreated struct {
	AlbumID uint64
	UserID  uint64
}

type AlbumDeleted struct {
	AlbumID uint64
	UserID  uint64
}

type AlbumCoverChanged struct {
	AlbumID uint64
}

type ImagesReordered struct {
	AlbumID uint64
}

type AlbumsReordered struct {
	UserID uint64
}

type BatchFinished struct {
	AlbumID uint64
	UserID  uint64
}

type CounterChanged struct {
	Subject   models.SubjectType
	SubjectID uint64
}

type SettingsChanged struct{}

func albumTags(albumID uint64) []string {
	return []string{AlbumTag(albumID), PhotosAlbumTag(albumID), TagImageList}
}

func (e ImageCreated) Kind() string { return "image_created" }
func (e ImageCreated) tags() []string {
	return append(albumTags(e.AlbumID), UserImageTag(e.UserID), TagRecentImage)
}

func (e ImageUpdated) Kind() string { return "image_updated" }
func (e ImageUpdated) tags() []string {
	result := append([]string{ImageTag(e.ImageID)}, albumTags(e.AlbumID)...)
	if e.PreviousAlbumID != 0 && e.PreviousAlbumID != e.AlbumID {
		result = append(result, albumTags(e.PreviousAlbumID)...)
	}
	if e.UserID != 0 {
		result = append(result, UserImageTag(e.UserID))
	}
	if e.PreviousUserID != 0 && e.PreviousUserID != e.UserID {
		result = append(result, UserImageTag(e.PreviousUserID))
	}
	return result
}

func (e ImageDeleted) Kind() string { return "image_deleted" }
func (e ImageDeleted) tags() []string {
	return append(albumTags(e.AlbumID), ImageTag(e.ImageID), UserImageTag(e.UserID), TagRecentImage)
}

func (e AlbumCreated) Kind() string { return "album_created" }
func (e AlbumCreated) tags() []string {
	return []string{TagNodeList, UserAlbumTag(e.UserID)}
}

func (e AlbumDeleted) Kind() string { return "album_deleted" }
func (e AlbumDeleted) tags() []string {
	return append(albumTags(e.AlbumID), TagNodeList, UserAlbumTag(e.UserID), UserImageTag(e.UserID), TagRecentImage)
}

func (e AlbumCoverChanged) Kind() string   { return "album_cover_changed" }
func (e AlbumCoverChanged) tags() []string { return albumTags(e.AlbumID) }

func (e ImagesReordered) Kind() string   { return "images_reordered" }
func (e ImagesReordered) tags() []string { return albumTags(e.AlbumID) }

func (e AlbumsReordered) Kind() string { return "albums_reordered" }
func (e AlbumsReordered) tags() []string {
	return []string{TagImageList, TagNodeList, UserAlbumTag(e.UserID)}
}

func (e BatchFinished) Kind() string { return "batch_finished" }
func (e BatchFinished) tags() []string {
	return append(albumTags(e.AlbumID), UserImageTag(e.UserID), TagRecentImage)
}

func (e CounterChanged) Kind() string { return "counter_changed" }
func (e CounterChanged) tags() []string {
	switch e.Subject {
	case models.SubjectAlbum:
		return []string{PhotosAlbumTag(e.SubjectID)}
	case models.SubjectUserImage:
		return []string{UserImageTag(e.SubjectID)}
	case models.SubjectUserAlbum:
		return []string{UserAlbumTag(e.SubjectID)}
	case models.SubjectSiteImage:
		return []string{TagRecentImage}
	case models.SubjectSiteAlbum:
		return []string{TagNodeList}
	}
	return nil
}

func (e SettingsChanged) Kind() string   { return "settings_changed" }
func (e SettingsChanged) tags() []string { return []string{TagNodeList, TagImageList} }

// Plan returns the sorted, de-duplicated tags invalidated by e
func Plan(e Event) []string {
	seen := map[string]bool{}
	result := []string{}
	for _, tag := range e.tags() {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	sort.Strings(result)
	return result
}
