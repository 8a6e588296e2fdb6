package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"horizon-apply-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g., Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	LoadOpenQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// QuizRepository caches quiz content in Redis as JSON blobs and falls back
// to the loader on cache miss:
//
//	SET quiz:{quizID}      <quiz json>   EX ttl
//	SET quizzes:open       <quiz list>   EX ttl
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	key := r.quizKey(quizID)

	if raw, err := r.client.Get(ctx, key).Result(); err == nil {
		var quiz domain.Quiz
		if jsonErr := json.Unmarshal([]byte(raw), &quiz); jsonErr == nil {
			return quiz, nil
		}
		// Corrupt cache entry: drop it and reload.
		_ = r.client.Del(ctx, key).Err()
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Result(); err == nil {
			var quiz domain.Quiz
			if jsonErr := json.Unmarshal([]byte(raw), &quiz); jsonErr == nil {
				return quiz, nil
			}
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		if data, err := json.Marshal(quiz); err == nil {
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) ListOpenQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	key := "quizzes:open"

	if raw, err := r.client.Get(ctx, key).Result(); err == nil {
		var quizzes []domain.Quiz
		if jsonErr := json.Unmarshal([]byte(raw), &quizzes); jsonErr == nil {
			return quizzes, nil
		}
		_ = r.client.Del(ctx, key).Err()
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		quizzes, err := r.loader.LoadOpenQuizzes(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(quizzes); err == nil {
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return quizzes, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Quiz), nil
}

func (r *QuizRepository) quizKey(quizID string) string {
	return "quiz:" + quizID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
