package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Server-side Lua evaluation. A script that returns nil yields (nil, nil).

func scriptResult(v interface{}, err error) (interface{}, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return v, err
}

// Eval runs script with keys and args on a leased connection
func (s *Store) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := s.do(ctx, "eval", firstKey(keys), func(ctx context.Context, conn *redis.Conn) error {
		var err error
		result, err = scriptResult(conn.Eval(ctx, script, keys, args...).Result())
		return err
	})
	return result, err
}

// ScriptLoad caches script on the server and returns its SHA1
func (s *Store) ScriptLoad(ctx context.Context, script string) (string, error) {
	var sha string
	err := s.do(ctx, "script_load", "", func(ctx context.Context, conn *redis.Conn) error {
		var err error
		sha, err = conn.ScriptLoad(ctx, script).Result()
		return err
	})
	return sha, err
}

// EvalSha runs a previously loaded script
func (s *Store) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := s.do(ctx, "evalsha", firstKey(keys), func(ctx context.Context, conn *redis.Conn) error {
		var err error
		result, err = scriptResult(conn.EvalSha(ctx, sha, keys, args...).Result())
		return err
	})
	return result, err
}

// RunScript runs script by SHA, loading it first if the server does not know it
func (s *Store) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := s.do(ctx, "run_script", firstKey(keys), func(ctx context.Context, conn *redis.Conn) error {
		var err error
		result, err = scriptResult(script.Run(ctx, conn, keys, args...).Result())
		return err
	})
	return result, err
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
