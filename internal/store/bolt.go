package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices    = []byte("devices")
	bucketAttributes = []byte("attributes")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketAttributes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putDevice(tx, dev)
	})
}

func putDevice(tx *bolt.Tx, dev *Device) error {
	b := tx.Bucket(bucketDevices)
	if b == nil {
		return fmt.Errorf("bucket %q not found", bucketDevices)
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return b.Put([]byte(dev.IEEEAddress), data)
}

func getDevice(tx *bolt.Tx, ieee string) (*Device, error) {
	b := tx.Bucket(bucketDevices)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucketDevices)
	}
	data := b.Get([]byte(ieee))
	if data == nil {
		return nil, fmt.Errorf("device %s: %w", ieee, ErrNotFound)
	}
	var dev Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *BoltStore) GetDevice(ieee string) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = getDevice(tx, ieee)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *BoltStore) UpdateDevice(ieee string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := getDevice(tx, ieee)
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return err
		}
		dev.IEEEAddress = ieee
		return putDevice(tx, dev)
	})
}

// DeleteDevice removes the device and its cached attributes.
func (s *BoltStore) DeleteDevice(ieee string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		if err := b.Delete([]byte(ieee)); err != nil {
			return err
		}
		attrs := tx.Bucket(bucketAttributes)
		if attrs.Bucket([]byte(ieee)) == nil {
			return nil
		}
		return attrs.DeleteBucket([]byte(ieee))
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func attributeKey(a Attribute) []byte {
	return []byte(fmt.Sprintf("%02X/%04X/%04X", a.Endpoint, a.ClusterID, a.AttrID))
}

// SaveAttribute stores the latest value of one attribute. Attributes live in
// a nested bucket per device.
func (s *BoltStore) SaveAttribute(ieee string, attr Attribute) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketAttributes).CreateBucketIfNotExists([]byte(ieee))
		if err != nil {
			return err
		}
		data, err := json.Marshal(attr)
		if err != nil {
			return err
		}
		return b.Put(attributeKey(attr), data)
	})
}

func (s *BoltStore) ListAttributes(ieee string) ([]Attribute, error) {
	var attrs []Attribute
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes).Bucket([]byte(ieee))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var a Attribute
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			attrs = append(attrs, a)
			return nil
		})
	})
	return attrs, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
