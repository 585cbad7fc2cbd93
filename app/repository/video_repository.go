package repository

import (
	"github.com/vidvault/vidvault/app/models"
	"gorm.io/gorm"
)

// videoRepository implements the VideoRepository interface
type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new video repository instance
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{db: db}
}

// Create creates a new video in the database
func (r *videoRepository) Create(video *models.Video) error {
	return r.db.Create(video).Error
}

// GetByID retrieves a video by its ID
func (r *videoRepository) GetByID(id uint) (*models.Video, error) {
	var video models.Video
	err := r.db.First(&video, id).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// GetByUUID retrieves a video by its public UUID
func (r *videoRepository) GetByUUID(uuid string) (*models.Video, error) {
	var video models.Video
	err := r.db.Where("uuid = ?", uuid).First(&video).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// GetActiveByID retrieves a video only if it is still purchasable
func (r *videoRepository) GetActiveByID(id uint) (*models.Video, error) {
	var video models.Video
	err := r.db.Where("id = ? AND is_active = ?", id, true).First(&video).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// GetActiveByIDs retrieves all active videos among the given ids in one query
func (r *videoRepository) GetActiveByIDs(ids []uint) ([]models.Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var videos []models.Video
	err := r.db.Where("id IN ? AND is_active = ?", ids, true).Find(&videos).Error
	return videos, err
}

// Update updates an existing video in the database
func (r *videoRepository) Update(video *models.Video) error {
	return r.db.Save(video).Error
}

// List retrieves a paginated list of videos
func (r *videoRepository) List(offset, limit int) ([]models.Video, error) {
	var videos []models.Video
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&videos).Error
	return videos, err
}

// Count returns the total number of videos
func (r *videoRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Video{}).Count(&count).Error
	return count, err
}
