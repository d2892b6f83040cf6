package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"echohub/internal/auth"
	"echohub/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketUserEmails    = []byte("user_emails")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketTokens        = []byte("tokens")
	bucketFiles         = []byte("files")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketUsers,
			bucketUserEmails,
			bucketConversations,
			bucketMessages,
			bucketTokens,
			bucketFiles,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// conversationID is the deterministic identifier for the message stream
// between two users, independent of who writes first.
func conversationID(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func credentialsToDB(creds auth.Credentials) *DBUser {
	return &DBUser{
		ID:                  creds.ID,
		Email:               creds.Email,
		FullName:            creds.FullName,
		AvatarID:            creds.AvatarID,
		CreatedAt:           creds.CreatedAt,
		PasswordHash:        creds.PasswordHash,
		FailedLoginAttempts: creds.FailedLoginAttempts,
		LastAttemptTime:     creds.LastAttemptTime,
	}
}

func dbToCredentials(dbUser DBUser) auth.Credentials {
	return auth.Credentials{
		User: models.User{
			ID:        dbUser.ID,
			Email:     dbUser.Email,
			FullName:  dbUser.FullName,
			AvatarID:  dbUser.AvatarID,
			CreatedAt: dbUser.CreatedAt,
		},
		PasswordHash:        dbUser.PasswordHash,
		FailedLoginAttempts: dbUser.FailedLoginAttempts,
		LastAttemptTime:     dbUser.LastAttemptTime,
	}
}

// CreateCredentials stores a new user. Email uniqueness is enforced inside
// the transaction via the email index bucket.
func (s *BboltStorage) CreateCredentials(creds auth.Credentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketUserEmails)
		if emails.Get([]byte(creds.Email)) != nil {
			return models.ErrEmailExists
		}

		dbUser := credentialsToDB(creds)
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put(dbUser.Key(), data); err != nil {
			return err
		}
		return emails.Put([]byte(creds.Email), []byte(creds.ID))
	})
}

// UpdateCredentials overwrites an existing user record. The email is
// immutable, so the index needs no maintenance.
func (s *BboltStorage) UpdateCredentials(creds auth.Credentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(creds.ID)) == nil {
			return models.ErrNotFound
		}
		dbUser := credentialsToDB(creds)
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) GetCredentialsByID(id string) (auth.Credentials, error) {
	var creds auth.Credentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		creds = dbToCredentials(dbUser)
		return nil
	})
	return creds, err
}

func (s *BboltStorage) GetCredentialsByEmail(email string) (auth.Credentials, error) {
	var creds auth.Credentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUserEmails).Get([]byte(email))
		if id == nil {
			return models.ErrNotFound
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		creds = dbToCredentials(dbUser)
		return nil
	})
	return creds, err
}

// GetUser returns the public record for a user.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	creds, err := s.GetCredentialsByID(id)
	if err != nil {
		return models.User{}, err
	}
	return creds.User, nil
}

// ListUsersExcept returns every user other than userID, sorted by full
// name. Used for the contact sidebar.
func (s *BboltStorage) ListUsersExcept(userID string) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.ID == userID {
				return nil
			}
			users = append(users, dbToCredentials(dbUser).User)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].FullName < users[j].FullName
	})
	return users, nil
}

// UpdateUserAvatar points the user record at a stored image and returns
// the updated public record.
func (s *BboltStorage) UpdateUserAvatar(userID, fileID string) (models.User, error) {
	creds, err := s.GetCredentialsByID(userID)
	if err != nil {
		return models.User{}, err
	}
	creds.AvatarID = fileID
	if err := s.UpdateCredentials(creds); err != nil {
		return models.User{}, err
	}
	return creds.User, nil
}

// CreateMessage durably stores a message, assigning the next sequence
// number of its conversation in the same transaction. The message and the
// conversation counter move together or not at all.
func (s *BboltStorage) CreateMessage(msg *models.Message) error {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return fmt.Errorf("message missing sender or receiver")
	}

	convID := conversationID(msg.SenderID, msg.ReceiverID)

	return s.db.Update(func(tx *bbolt.Tx) error {
		// 1. Bump the conversation sequence counter.
		convBucket := tx.Bucket(bucketConversations)
		var conv DBConversation
		if data := convBucket.Get([]byte(convID)); data != nil {
			if err := conv.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
		} else {
			conv.ID = convID
		}
		conv.LastSeq++
		msg.Seq = conv.LastSeq

		convData, err := conv.MarshalBinary()
		if err != nil {
			return err
		}
		if err := convBucket.Put(conv.Key(), convData); err != nil {
			return err
		}

		// 2. Store the message under the conversation's sub-bucket.
		msgBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(convID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMsg := DBMessage{
			ID:         msg.ID,
			Seq:        msg.Seq,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Text:       msg.Text,
			HTML:       msg.HTML,
			ImageID:    msg.ImageID,
			CreatedAt:  msg.CreatedAt,
		}
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return msgBucket.Put(dbMsg.Key(), data)
	})
}

// ListMessagesBetween returns the full conversation between two users,
// ascending by creation order.
func (s *BboltStorage) ListMessagesBetween(userA, userB string) ([]models.Message, error) {
	convID := conversationID(userA, userB)

	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
		if convBucket == nil {
			return nil // No messages yet
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:         dbMsg.ID,
				Seq:        dbMsg.Seq,
				SenderID:   dbMsg.SenderID,
				ReceiverID: dbMsg.ReceiverID,
				Text:       dbMsg.Text,
				HTML:       dbMsg.HTML,
				ImageID:    dbMsg.ImageID,
				CreatedAt:  dbMsg.CreatedAt,
			})
			return nil
		})
	})
	return messages, err
}

func (s *BboltStorage) UpsertToken(tokenHash, userID string, expiresAt int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbToken := &DBToken{
			UserID:    userID,
			TokenHash: tokenHash,
			ExpiresAt: expiresAt,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put(dbToken.Key(), data)
	})
}

// GetToken resolves a token hash to its user ID. Expired tokens are
// deleted on the way out.
func (s *BboltStorage) GetToken(tokenHash string) (string, error) {
	var userID string
	expired := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(tokenHash))
		if data == nil {
			return models.ErrNotFound
		}
		var dbToken DBToken
		if err := dbToken.UnmarshalBinary(data); err != nil {
			return err
		}
		if dbToken.ExpiresAt <= s.now().Unix() {
			expired = true
			return models.ErrNotFound
		}
		userID = dbToken.UserID
		return nil
	})
	if expired {
		_ = s.DeleteToken(tokenHash)
	}
	return userID, err
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}
