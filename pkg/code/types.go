// Package code provides source-file language detection shared by the
// grammar scan command and the file watcher.
package code

import "time"

// Language constants
const (
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangGo         = "go"
	LangPython     = "python"
	LangRust       = "rust"
	LangJava       = "java"
	LangC          = "c"
	LangCPP        = "cpp"
	LangCSharp     = "csharp"
	LangRuby       = "ruby"
	LangPHP        = "php"
	LangSwift      = "swift"
	LangKotlin     = "kotlin"
	LangScala      = "scala"
	LangElixir     = "elixir"
	LangLua        = "lua"
	LangBash       = "bash"
	LangSQL        = "sql"
	LangHTML       = "html"
	LangCSS        = "css"
	LangYAML       = "yaml"
	LangTOML       = "toml"
	LangJSON       = "json"
	LangProtobuf   = "protobuf"
	LangHCL        = "hcl"
	LangDockerfile = "dockerfile"
	LangOCaml      = "ocaml"
	LangElm        = "elm"
	LangGroovy     = "groovy"
)

// LangExtensions maps file extensions to languages.
var LangExtensions = map[string]string{
	// TypeScript/JavaScript
	".ts":  LangTypeScript,
	".tsx": LangTypeScript,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".cjs": LangJavaScript,
	// Go
	".go": LangGo,
	// Python
	".py":  LangPython,
	".pyw": LangPython,
	".pyi": LangPython,
	// Rust
	".rs": LangRust,
	// Java
	".java": LangJava,
	// C/C++
	".c":   LangC,
	".h":   LangC,
	".cpp": LangCPP,
	".cc":  LangCPP,
	".cxx": LangCPP,
	".hpp": LangCPP,
	".hh":  LangCPP,
	".hxx": LangCPP,
	// C#
	".cs": LangCSharp,
	// Ruby
	".rb":   LangRuby,
	".rake": LangRuby,
	// PHP
	".php": LangPHP,
	// Swift
	".swift": LangSwift,
	// Kotlin
	".kt":  LangKotlin,
	".kts": LangKotlin,
	// Scala
	".scala": LangScala,
	".sc":    LangScala,
	// Elixir
	".ex":  LangElixir,
	".exs": LangElixir,
	// Lua
	".lua": LangLua,
	// Shell/Bash
	".sh":   LangBash,
	".bash": LangBash,
	".zsh":  LangBash,
	// SQL
	".sql": LangSQL,
	// Web
	".html": LangHTML,
	".htm":  LangHTML,
	".css":  LangCSS,
	".scss": LangCSS,
	".less": LangCSS,
	// Config
	".yaml": LangYAML,
	".yml":  LangYAML,
	".toml": LangTOML,
	".json": LangJSON,
	".hcl":  LangHCL,
	".tf":   LangHCL,
	// Proto
	".proto": LangProtobuf,
	// Docker
	"Dockerfile": LangDockerfile,
	// OCaml
	".ml":  LangOCaml,
	".mli": LangOCaml,
	// Elm
	".elm": LangElm,
	// Groovy
	".groovy": LangGroovy,
	".gradle": LangGroovy,
}

// LangFilenames maps known filenames (matched on the full base name) to languages.
var LangFilenames = map[string]string{
	"Makefile":       LangBash,
	"GNUmakefile":    LangBash,
	"Jenkinsfile":    LangGroovy,
	"Vagrantfile":    LangRuby,
	"Rakefile":       LangRuby,
	"Gemfile":        LangRuby,
	"BUILD":          LangPython, // Bazel
	"BUILD.bazel":    LangPython,
	"WORKSPACE":      LangPython, // Bazel
	"SConstruct":     LangPython,
	"SConscript":     LangPython,
	"CMakeLists.txt": LangBash, // Close enough for detection purposes
}

// ShebangLangs maps shebang interpreter names to languages.
var ShebangLangs = map[string]string{
	"python":  LangPython,
	"python2": LangPython,
	"python3": LangPython,
	"ruby":    LangRuby,
	"bash":    LangBash,
	"sh":      LangBash,
	"zsh":     LangBash,
	"node":    LangJavaScript,
	"deno":    LangTypeScript,
	"bun":     LangTypeScript,
	"lua":     LangLua,
	"perl":    LangBash, // Best-effort
	"php":     LangPHP,
	"elixir":  LangElixir,
	"groovy":  LangGroovy,
	"swift":   LangSwift,
	"kotlin":  LangKotlin,
	"scala":   LangScala,
}

// WatcherConfig contains file watcher configuration.
type WatcherConfig struct {
	Enabled       bool          // Enable file watching
	Paths         []string      // Paths to watch (empty = cwd)
	DebounceDelay time.Duration // Delay before reanalysis (default 30s)
}

// DefaultDebounceDelay is the default delay before reanalysis after file changes.
const DefaultDebounceDelay = 30 * time.Second
