package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil || lifespan <= 0 {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

/* Redis */

// store instance, Type:$id
func StoreRedis[T any](obj *T, id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, obj, GetCacheLifespan())
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

// store list, TypeList:$suffix (suffix may be empty)
func StoreRedisList[T any](list []*T, suffix string) error {
	return config.SetRedisObject(listKey[T](suffix), list, GetCacheLifespan())
}

// retrieve a list, nil if not cached
func RetrieveRedisList[T any](suffix string) ([]*T, error) {
	var result []*T
	exists, err := config.GetRedisObject(listKey[T](suffix), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RemoveRedisList[T any](suffix string) error {
	return config.RemoveRedisKey(listKey[T](suffix))
}

func listKey[T any](suffix string) string {
	if suffix == "" {
		return GetTypeName[T]() + "List"
	}
	return GetTypeName[T]() + "List:" + suffix
}
