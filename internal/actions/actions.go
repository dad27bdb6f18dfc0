// Package actions is the endpoint factory: the named query/mutation set a
// freshly connected session can invoke. It demonstrates the reactive
// runtime end to end with two small, independent feature slices: a global
// items list (store + notifier + mutation) and a per-session login (session
// store + query + mutation).
package actions

import (
	"context"
	"sync"

	"github.com/streamspace/reactive-query-server/internal/reactive"
	"github.com/streamspace/reactive-query-server/internal/validator"
)

// Item is one entry in the global items list.
type Item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// User is the record stored against a session once it has logged in.
type User struct {
	Username string `json:"username"`
}

var (
	itemsStore        = reactive.NewStore[[]Item](reactive.ScopeGlobal, []Item{})
	itemAddedNotifier = reactive.NewNotifier(reactive.ScopeGlobal)
	currentUserStore  = reactive.NewSessionStore[*User](nil)
	nextItemID        = 1

	extraDepsMu sync.Mutex
	extraDeps   []reactive.Source
)

// RegisterDependency adds src to the set of global sources itemsList also
// depends on, in addition to itemAddedNotifier. This is how an external
// change-source adapter (database LISTEN/NOTIFY, file watch, cross-replica
// bridge) gets wired into a query that already has its own in-process
// notifier: a replica that learns of a write it didn't originate still needs
// to invalidate the cached result. Must be called before Registry is
// invoked for the connection that should observe it.
func RegisterDependency(src reactive.Source) {
	extraDepsMu.Lock()
	defer extraDepsMu.Unlock()
	extraDeps = append(extraDeps, src)
}

func globalItemDeps() []reactive.Source {
	extraDepsMu.Lock()
	defer extraDepsMu.Unlock()
	deps := make([]reactive.Source, 0, len(extraDeps)+1)
	deps = append(deps, itemAddedNotifier)
	deps = append(deps, extraDeps...)
	return deps
}

type addItemParams struct {
	Name string `json:"name" validate:"required"`
}

type loginParams struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,password"`
}

// Registry builds the named action set available to one connection. The
// underlying stores and notifiers are process-wide singletons shared by
// every session; only the per-call closures are built fresh here, so
// Registry is cheap enough to call once per connect.
func Registry() map[string]reactive.Action {
	sv := validator.NewStructValidator()

	return map[string]reactive.Action{
		"itemsList": &reactive.QueryDef{
			Deps: func(ctx context.Context, args any) []reactive.Source {
				return globalItemDeps()
			},
			Compute: func(ctx context.Context, args any) (any, error) {
				return itemsStore.Get(), nil
			},
			Cache: reactive.CacheNone,
		},
		"addItem": &reactive.MutationDef{
			Validator: sv,
			NewParams: func() any { return &addItemParams{} },
			Execute:   executeAddItem,
		},
		"sessionUser": &reactive.QueryDef{
			Deps: func(ctx context.Context, args any) []reactive.Source {
				src, err := currentUserStore.AsSource(ctx)
				if err != nil {
					return nil
				}
				return []reactive.Source{src}
			},
			Compute: func(ctx context.Context, args any) (any, error) {
				return currentUserStore.Get(ctx)
			},
			Cache: reactive.CacheNone,
		},
		"login": &reactive.MutationDef{
			Validator: sv,
			NewParams: func() any { return &loginParams{} },
			Execute:   executeLogin,
		},
	}
}

func executeAddItem(ctx context.Context, args any) (any, error) {
	params := args.(*addItemParams)

	var created Item
	itemsStore.Mutate(func(items []Item) []Item {
		created = Item{ID: nextItemID, Name: params.Name}
		nextItemID++
		next := make([]Item, len(items), len(items)+1)
		copy(next, items)
		return append(next, created)
	})
	itemAddedNotifier.Notify()

	return created, nil
}

func executeLogin(ctx context.Context, args any) (any, error) {
	params := args.(*loginParams)
	user := &User{Username: params.Username}

	if err := currentUserStore.Set(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
