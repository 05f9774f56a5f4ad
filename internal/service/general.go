package service

import (
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Quiet-Fox-Software/linkstash-back/internal/db"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/scrape"
)

var (
	ErrNotFound                  = errors.New("record not found")
	ErrEmailTaken                = errors.New("user already exists")
	ErrDuplicateURL              = errors.New("bookmark url already exists for user")
	ErrLoginUserNotFound         = errors.New("user not found")
	ErrLoginPasswordDoesNotMatch = errors.New("password does not match")
	ErrPasswordDoesNotMatch      = errors.New("current password does not match")
)

// MetadataFetcher is what the bookmark flow needs from the scraper.
type MetadataFetcher interface {
	Scrape(rawURL string) (*scrape.Metadata, error)
}

type General struct {
	db      *gorm.DB
	scraper MetadataFetcher
	logger  *zap.SugaredLogger
}

func NewGeneral(db *gorm.DB, scraper MetadataFetcher, l *zap.SugaredLogger) *General {
	return &General{
		db:      db,
		scraper: scraper,
		logger:  l,
	}
}

func (s *General) Register(email, pass string) (*db.User, error) {
	taken, err := s.EmailTaken(email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hash, err := s.bcryptGen(pass)
	if err != nil {
		return nil, errors.Wrap(err, "bcryptGen")
	}

	model := db.User{
		Email:    email,
		Password: hash,
	}
	res := s.db.Create(&model)
	if res.Error != nil {
		// Two concurrent registrations race past EmailTaken; the unique
		// index settles it.
		if isUniqueViolation(res.Error) {
			return nil, ErrEmailTaken
		}
		return nil, res.Error
	}
	return &model, nil
}

func (s *General) Login(email, pass string) (*db.User, error) {
	user := db.User{}
	res := s.db.Where("email = ?", email).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrLoginUserNotFound
		}
		return nil, res.Error
	}

	if err := s.bcryptCheck(user.Password, pass); err != nil {
		return nil, ErrLoginPasswordDoesNotMatch
	}

	return &user, nil
}

func (s *General) UserByID(id uint64) (*db.User, error) {
	user := db.User{}
	res := s.db.First(&user, id)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, res.Error
	}
	return &user, nil
}

func (s *General) EmailTaken(email string) (bool, error) {
	user := db.User{}
	res := s.db.Where("email = ?", email).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, res.Error
	}
	return true, nil
}

func (s *General) UpdatePassword(user *db.User, currentPass, newPass string) error {
	if err := s.bcryptCheck(user.Password, currentPass); err != nil {
		return ErrPasswordDoesNotMatch
	}

	hash, err := s.bcryptGen(newPass)
	if err != nil {
		return errors.Wrap(err, "bcryptGen")
	}

	res := s.db.Model(user).Update("password", hash)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update password")
	}
	return nil
}

// DeleteUser removes the user row only. The user's bookmarks survive; see
// DESIGN.md for why this mirrors the known gap instead of cascading.
func (s *General) DeleteUser(user *db.User) error {
	res := s.db.Delete(&db.User{}, user.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Infow("deleted user account", "user_id", user.ID)
	return nil
}

func (s *General) BookmarkCreate(user *db.User, url string) (*db.Bookmark, error) {
	meta, err := s.scraper.Scrape(url)
	if err != nil {
		return nil, err
	}

	model := db.Bookmark{
		Title:    meta.Title,
		URL:      url,
		Favicon:  meta.Favicon,
		Favorite: false,
		UserID:   user.ID,
	}

	res := s.db.Create(&model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, ErrDuplicateURL
		}
		return nil, res.Error
	}

	return &model, nil
}

func (s *General) BookmarkList(user *db.User) ([]db.Bookmark, error) {
	bookmarks := make([]db.Bookmark, 0)
	res := s.db.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&bookmarks)
	if res.Error != nil {
		return nil, res.Error
	}
	return bookmarks, nil
}

func (s *General) BookmarkFavorites(user *db.User) ([]db.Bookmark, error) {
	sql, args, err := squirrel.
		Select("id", "created_at", "updated_at", "title", "url", "favicon", "favorite", "user_id").
		From("bookmarks").
		Where(squirrel.Eq{
			"user_id":  user.ID,
			"favorite": true,
		}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	bookmarks := make([]db.Bookmark, 0)
	res := s.db.Raw(sql, args...).Scan(&bookmarks)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}
	return bookmarks, nil
}

func (s *General) BookmarkGet(user *db.User, id uint64) (*db.Bookmark, error) {
	model := db.Bookmark{}
	res := s.db.Where("id = ? AND user_id = ?", id, user.ID).First(&model)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, res.Error
	}
	return &model, nil
}

// BookmarkUpdate merges the provided fields into the stored record. Nil
// means "leave alone"; absent records and other users' records are the
// same ErrNotFound.
func (s *General) BookmarkUpdate(user *db.User, id uint64, title, url *string, favorite *bool) (*db.Bookmark, error) {
	model, err := s.BookmarkGet(user, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		model.Title = *title
	}
	if url != nil {
		model.URL = *url
	}
	if favorite != nil {
		model.Favorite = *favorite
	}

	res := s.db.Save(model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, ErrDuplicateURL
		}
		return nil, errors.Wrap(res.Error, "save model")
	}
	return model, nil
}

// BookmarkSetFavorite sets the flag to an explicit state, so repeating the
// same action is a no-op rather than a toggle.
func (s *General) BookmarkSetFavorite(user *db.User, id uint64, favorite bool) (*db.Bookmark, error) {
	model, err := s.BookmarkGet(user, id)
	if err != nil {
		return nil, err
	}

	model.Favorite = favorite
	res := s.db.Save(model)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "save model")
	}
	return model, nil
}

func (s *General) BookmarkDelete(user *db.User, id uint64) error {
	res := s.db.Where("user_id = ?", user.ID).Delete(&db.Bookmark{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BookmarkDeleteAll removes every bookmark the user owns and reports how
// many went away. Zero is a valid answer, not an error.
func (s *General) BookmarkDeleteAll(user *db.User) (int64, error) {
	res := s.db.Where("user_id = ?", user.ID).Delete(&db.Bookmark{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.logger.Infow("deleted all bookmarks", "user_id", user.ID, "count", res.RowsAffected)
	return res.RowsAffected, nil
}

func (s *General) bcryptGen(pass string) (string, error) {
	passwordHashB, err := bcrypt.GenerateFromPassword([]byte(pass), 14)
	if err != nil {
		return "", errors.Wrap(err, "generate password hash")
	}
	return string(passwordHashB), nil
}

func (s *General) bcryptCheck(hash, pass string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
}

// isUniqueViolation matches both the postgres and the sqlite (unit test)
// renderings of a unique index conflict.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
