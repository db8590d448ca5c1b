// Package repository — доступ к управляемому Postgres (pgx). Консоль только
// читает домен; все мутации идут через бэкенд действий, кроме участия в чате
// (chat_collaborators), которым владеет сама консоль.
package repository

import "errors"

// ErrNotFound возвращается при отсутствии записи.
var ErrNotFound = errors.New("not found")
