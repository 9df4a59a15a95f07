package stores

import (
	"os"
	"sketchpad/core"
	"sketchpad/stores/aws"
	"sketchpad/stores/filesystem"
	"sketchpad/stores/memory"
	"sketchpad/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore returns the key-value backend selected by STORAGE_TYPE.
func GetStore() core.KeyValueStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.KeyValueStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "sketchpad.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		prefix := os.Getenv("S3_KEY_PREFIX")
		storageField["bucketName"] = bucketName
		storageField["prefix"] = prefix
		store = aws.NewStore(bucketName, prefix)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
