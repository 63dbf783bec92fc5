package s3

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/scttfrdmn/cargoship/pkg/aws/config"
)

// Storage classes accepted in storage.s3.storage_class.
const (
	TierStandard          = "STANDARD"
	TierStandardIA        = "STANDARD_IA"
	TierOneZoneIA         = "ONEZONE_IA"
	TierReducedRedundancy = "REDUCED_REDUNDANCY"
	TierGlacierIR         = "GLACIER_IR"
	TierGlacier           = "GLACIER"
	TierDeepArchive       = "DEEP_ARCHIVE"
	TierIntelligent       = "INTELLIGENT_TIERING"
)

// StorageTierInfo describes one storage class: how it is named on the wire
// and the provider constraints that affect writes and reads.
type StorageTierInfo struct {
	Name string
	// Class is sent with PutObject, CreateMultipartUpload and CopyObject.
	Class types.StorageClass
	// CargoShipClass is the nearest class the transporter knows.
	CargoShipClass config.StorageClass

	MinObjectSize      int64
	MinimumStorageDays int
	// Archive classes cannot be read or copied without a restore.
	RequiresRestore bool
}

// StorageTiers lists the storage classes accepted in configuration.
var StorageTiers = map[string]StorageTierInfo{
	TierStandard: {
		Name:           "Standard",
		Class:          types.StorageClassStandard,
		CargoShipClass: config.StorageClassStandard,
	},
	TierStandardIA: {
		Name:               "Standard-Infrequent Access",
		Class:              types.StorageClassStandardIa,
		CargoShipClass:     config.StorageClassStandardIA,
		MinObjectSize:      128 * 1024,
		MinimumStorageDays: 30,
	},
	TierOneZoneIA: {
		Name:               "One Zone-Infrequent Access",
		Class:              types.StorageClassOnezoneIa,
		CargoShipClass:     config.StorageClassOneZoneIA,
		MinObjectSize:      128 * 1024,
		MinimumStorageDays: 30,
	},
	TierReducedRedundancy: {
		Name:           "Reduced Redundancy",
		Class:          types.StorageClassReducedRedundancy,
		CargoShipClass: config.StorageClassStandard,
	},
	TierGlacierIR: {
		Name:               "Glacier Instant Retrieval",
		Class:              types.StorageClassGlacierIr,
		CargoShipClass:     config.StorageClassGlacier,
		MinObjectSize:      128 * 1024,
		MinimumStorageDays: 90,
	},
	TierGlacier: {
		Name:               "Glacier Flexible Retrieval",
		Class:              types.StorageClassGlacier,
		CargoShipClass:     config.StorageClassGlacier,
		MinObjectSize:      40 * 1024,
		MinimumStorageDays: 90,
		RequiresRestore:    true,
	},
	TierDeepArchive: {
		Name:               "Glacier Deep Archive",
		Class:              types.StorageClassDeepArchive,
		CargoShipClass:     config.StorageClassDeepArchive,
		MinObjectSize:      40 * 1024,
		MinimumStorageDays: 180,
		RequiresRestore:    true,
	},
	TierIntelligent: {
		Name:           "Intelligent Tiering",
		Class:          types.StorageClassIntelligentTiering,
		CargoShipClass: config.StorageClassIntelligentTiering,
	},
}

// lookupTier returns the tier for a configured class. Empty means STANDARD.
func lookupTier(tier string) (StorageTierInfo, bool) {
	if tier == "" {
		tier = TierStandard
	}
	info, ok := StorageTiers[tier]
	return info, ok
}

// ValidateStorageClass rejects unknown storage classes. Empty means STANDARD.
func ValidateStorageClass(tier string) error {
	if _, ok := lookupTier(tier); !ok {
		return fmt.Errorf("unknown storage class %q", tier)
	}
	return nil
}

// ConvertTierToStorageClass returns the SDK storage class of tier.
func ConvertTierToStorageClass(tier string) types.StorageClass {
	if info, ok := lookupTier(tier); ok {
		return info.Class
	}
	return types.StorageClassStandard
}

// ConvertTierToCargoShipStorageClass returns the transporter storage class of tier.
func ConvertTierToCargoShipStorageClass(tier string) config.StorageClass {
	if info, ok := lookupTier(tier); ok {
		return info.CargoShipClass
	}
	return config.StorageClassStandard
}

// warnOnTierOverhead logs writes that will be billed above their size.
func warnOnTierOverhead(logger *slog.Logger, tier, key string, size int64) {
	info, ok := lookupTier(tier)
	if !ok || size >= info.MinObjectSize {
		return
	}
	logger.Debug("object below storage class minimum billable size",
		"tier", tier,
		"key", key,
		"size", size,
		"min_size", info.MinObjectSize,
		"min_storage", time.Duration(info.MinimumStorageDays)*24*time.Hour)
}

// warnOnArchiveTier logs once per instance that objects written with tier
// cannot be read back or copied until restored.
func warnOnArchiveTier(logger *slog.Logger, tier string) {
	if info, ok := lookupTier(tier); ok && info.RequiresRestore {
		logger.Warn("storage class requires a restore before objects can be read or copied",
			"tier", tier,
			"name", info.Name)
	}
}
