package albums

import (
	"context"
	"gallery/models"
	"gallery/ordering"
)

type Scope string

const (
	ScopeAlbum Scope = "album"
	ScopeUser  Scope = "user"
)

// ListQuery is a raw list request. Field, Sort and Limit are validated, never trusted.
type ListQuery struct {
	Field       string
	Sort        string
	Limit       string
	Page        int
	Destination string // Redirect destination that may carry limit=N
}

type ImagePage struct {
	Album  models.Album
	Images []models.Image
	Order  ordering.Order
	Window ordering.Window
}

type Pager struct {
	Image     models.Image
	AlbumName string
	ordering.Neighbors
}

// AlbumOrder is the album's own order when it has a valid one, the configured default otherwise
func (s *Service) AlbumOrder(album models.Album) ordering.Order {
	def := s.cfg.DefaultOrder
	if album.SortField == "" {
		return def
	}
	return ordering.ResolveOrder(album.SortField, album.SortDirection, &def)
}

func (s *Service) ListImages(ctx context.Context, albumID uint64, q ListQuery) (ImagePage, error) {
	album, err := s.album(ctx, albumID)
	if err != nil {
		return ImagePage{}, err
	}
	def := s.AlbumOrder(album)
	order := ordering.ResolveOrder(q.Field, q.Sort, &def)
	pageSize := s.cfg.PageSize
	if album.PageSize > 0 {
		pageSize = album.PageSize
	}
	limit := ordering.ResolveLimit(q.Limit, q.Destination, pageSize)

	var total int64
	query := s.db.WithContext(ctx).Model(&models.Image{}).Where("album_id = ?", albumID)
	if err = query.Count(&total).Error; err != nil {
		return ImagePage{}, err
	}
	window := ordering.NewWindow(total, q.Page, limit)
	images := []models.Image{}
	err = s.db.WithContext(ctx).
		Where("album_id = ?", albumID).
		Clauses(order.Clauses()).
		Offset(window.Offset).
		Limit(window.Limit).
		Find(&images).Error
	if err != nil {
		return ImagePage{}, err
	}
	return ImagePage{Album: album, Images: images, Order: order, Window: window}, nil
}

// ImagePager finds the neighbours of an image within its album, using the album order,
// or within all images of its owner, newest first. Both come from one ordered scan.
func (s *Service) ImagePager(ctx context.Context, imageID uint64, scope Scope) (Pager, error) {
	image, err := s.image(ctx, imageID)
	if err != nil {
		return Pager{}, err
	}
	album, err := s.album(ctx, image.AlbumID)
	if err != nil {
		return Pager{}, err
	}
	query := s.db.WithContext(ctx).Model(&models.Image{})
	var order ordering.Order
	switch scope {
	case ScopeAlbum, "":
		query = query.Where("album_id = ?", image.AlbumID)
		order = s.AlbumOrder(album)
	case ScopeUser:
		query = query.Where("user_id = ?", image.UserID)
		order = ordering.DefaultOrder
	default:
		return Pager{}, ErrUnknownScope
	}
	var ids []uint64
	if err = query.Clauses(order.Clauses()).Pluck("id", &ids).Error; err != nil {
		return Pager{}, err
	}
	return Pager{
		Image:     image,
		AlbumName: album.Name,
		Neighbors: ordering.ComputeNeighbors(ids, image.ID),
	}, nil
}
