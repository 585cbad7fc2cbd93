package statistics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/vidvault/vidvault/app/models"
	"github.com/vidvault/vidvault/internal/pkg/cache"
	"github.com/vidvault/vidvault/internal/pkg/database"
	metrics "github.com/vidvault/vidvault/internal/pkg/metrics/counter"
)

const (
	CacheKeyPurchasesTotal = "statistics:purchases:total"
	CacheKeyRevenueTotal   = "statistics:revenue:total"
	CacheKeyUsers          = "statistics:users:total"
	CacheKeyVideos         = "statistics:videos:total"
	CacheExpiration        = 30 * time.Minute
)

// StatisticsData holds the aggregated platform numbers
type StatisticsData struct {
	TodayPurchases    int64
	TodayRevenueCents int64
	TotalPurchases    int64
	TotalRevenueCents int64
	TotalUsers        int64
	TotalVideos       int64
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// CacheKeys lists every statistics cache key, for invalidation after writes
func CacheKeys() []string {
	return []string{CacheKeyPurchasesTotal, CacheKeyRevenueTotal, CacheKeyUsers, CacheKeyVideos}
}

// ShouldUpdateCache reports whether the cache refresh interval has passed
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached statistics when they are stale
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Error updating statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next read to refresh the cache
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes all statistics from the database and
// stores them in the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalPurchases int64
	if err := db.Model(&models.Purchase{}).Where("status = ?", models.PurchaseStatusCompleted).Count(&totalPurchases).Error; err != nil {
		log.Printf("Error counting completed purchases: %v", err)
		return err
	}

	var totalRevenue int64
	if err := db.Model(&models.Purchase{}).
		Where("status = ?", models.PurchaseStatusCompleted).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&totalRevenue).Error; err != nil {
		log.Printf("Error summing revenue: %v", err)
		return err
	}

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("Error counting total users: %v", err)
		return err
	}

	var totalVideos int64
	if err := db.Model(&models.Video{}).Where("is_active = ?", true).Count(&totalVideos).Error; err != nil {
		log.Printf("Error counting active videos: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyPurchasesTotal, strconv.FormatInt(totalPurchases, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyRevenueTotal, strconv.FormatInt(totalRevenue, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyVideos, strconv.FormatInt(totalVideos, 10), CacheExpiration); err != nil {
		return err
	}

	log.Printf("Statistics updated in cache: Purchases: %d, Revenue: %d, Users: %d, Videos: %d",
		totalPurchases, totalRevenue, totalUsers, totalVideos)

	return nil
}

// cachedCount reads an int64 from cache, recomputing via compute on a miss
func cachedCount(key string, compute func() (int64, error)) int64 {
	val, err := cache.Get(key)
	if err == nil {
		if count, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return count
		}
	}

	count, err := compute()
	if err != nil {
		log.Printf("Error computing statistic %s: %v", key, err)
		return 0
	}
	if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
		log.Printf("Error caching statistic %s: %v", key, err)
	}
	return count
}

// GetTotalPurchases returns the number of completed purchases
func GetTotalPurchases() int64 {
	return cachedCount(CacheKeyPurchasesTotal, func() (int64, error) {
		var count int64
		err := database.GetDB().Model(&models.Purchase{}).
			Where("status = ?", models.PurchaseStatusCompleted).
			Count(&count).Error
		return count, err
	})
}

// GetTotalRevenueCents returns the lifetime revenue of completed purchases
func GetTotalRevenueCents() int64 {
	return cachedCount(CacheKeyRevenueTotal, func() (int64, error) {
		var sum int64
		err := database.GetDB().Model(&models.Purchase{}).
			Where("status = ?", models.PurchaseStatusCompleted).
			Select("COALESCE(SUM(amount_cents), 0)").
			Scan(&sum).Error
		return sum, err
	})
}

// GetTotalUsers returns the total number of users
func GetTotalUsers() int64 {
	return cachedCount(CacheKeyUsers, func() (int64, error) {
		var count int64
		err := database.GetDB().Model(&models.User{}).Count(&count).Error
		return count, err
	})
}

// GetTotalVideos returns the number of active catalog videos
func GetTotalVideos() int64 {
	return cachedCount(CacheKeyVideos, func() (int64, error) {
		var count int64
		err := database.GetDB().Model(&models.Video{}).Where("is_active = ?", true).Count(&count).Error
		return count, err
	})
}

// GetStatisticsData returns all statistics, refreshing the cache if stale.
// Today's numbers come straight from the Redis sales counters.
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	todayCount, todayRevenue, err := metrics.GetDailySales()
	if err != nil {
		log.Printf("Error reading daily sales counters: %v", err)
	}

	return StatisticsData{
		TodayPurchases:    todayCount,
		TodayRevenueCents: todayRevenue,
		TotalPurchases:    GetTotalPurchases(),
		TotalRevenueCents: GetTotalRevenueCents(),
		TotalUsers:        GetTotalUsers(),
		TotalVideos:       GetTotalVideos(),
	}
}
