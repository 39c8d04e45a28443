package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"taskpulse/internal/models"
)

var (
	bucketComments = []byte("comments")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketComments)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// AppendComment persists a comment under its task, assigning the next
// sequence number within that task. Returns the assigned sequence.
func (s *BboltStorage) AppendComment(comment models.Comment) (int64, error) {
	var seq int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if comment.TaskID == "" {
			return errors.New("comment missing taskID")
		}

		mainBucket := tx.Bucket(bucketComments)
		taskBucket, err := mainBucket.CreateBucketIfNotExists([]byte(comment.TaskID))
		if err != nil {
			return fmt.Errorf("failed to create task bucket: %w", err)
		}

		next, err := taskBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		seq = int64(next)

		dbComment := DBComment{
			ID:         comment.ID,
			Seq:        seq,
			TaskID:     comment.TaskID,
			AuthorID:   comment.AuthorID,
			AuthorName: comment.AuthorName,
			Content:    comment.Content,
			ParentID:   comment.ParentID,
			CreatedAt:  comment.CreatedAt,
		}

		data, err := dbComment.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal comment: %w", err)
		}

		return taskBucket.Put(dbComment.Key(), data)
	})
	return seq, err
}

// ListComments returns a task's comments with sequence numbers in
// [from, to], oldest first.
func (s *BboltStorage) ListComments(taskID string, from, to int64) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.View(func(tx *bbolt.Tx) error {
		mainBucket := tx.Bucket(bucketComments)
		taskBucket := mainBucket.Bucket([]byte(taskID))
		if taskBucket == nil {
			return nil // No comments for this task
		}

		c := taskBucket.Cursor()

		minKey := make([]byte, 8)
		binary.BigEndian.PutUint64(minKey, uint64(from))

		maxKey := make([]byte, 8)
		binary.BigEndian.PutUint64(maxKey, uint64(to))

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbComment DBComment
			if err := dbComment.UnmarshalBinary(v); err != nil {
				return err
			}
			comments = append(comments, models.Comment{
				ID:         dbComment.ID,
				Seq:        dbComment.Seq,
				TaskID:     dbComment.TaskID,
				AuthorID:   dbComment.AuthorID,
				AuthorName: dbComment.AuthorName,
				Content:    dbComment.Content,
				ParentID:   dbComment.ParentID,
				CreatedAt:  dbComment.CreatedAt,
			})
		}
		return nil
	})
	return comments, err
}
