package main

// Remote provider blank imports; each import activates a self-registering adapter.

import (
	_ "github.com/Strob0t/DocSync/internal/adapter/github"
	_ "github.com/Strob0t/DocSync/internal/adapter/memremote"
)
