// Package script exposes the store to embedded JavaScript runtimes (goja).
//
// Every runtime gets a global object (default name "LuaDB") with a flat
// function surface, one function per action and scope:
//
//	Set(key, value)  SetG(key, value)   -> true on success
//	Get(key)         GetG(key)          -> value, undefined if missing
//	Del(key)         DelG(key)          -> true if the key was removed
//	Exi(key)         ExiG(key)          -> true if the key exists
//	All()            AllG()             -> object of all entries
//	Dump()                              -> writes both partitions to the output
//
// Unscoped names address the active save-slot, the G suffix the global
// partition. Values are booleans, numbers and strings. A call with the wrong
// number of arguments, a non-string key, an unsupported value or a save-slot
// call without an active slot returns false (All: an empty object). Calls
// never throw.
//
// On top of the flat surface every runtime has a "DB" object that stores any
// JSON-serialisable value (encoded on write, decoded on read), property
// style views DB.L (save-slot) and DB.G (global), and DB.Create(namespace)
// for key prefixed instances:
//
//	DB.L.quest = {stage: 3}
//	DB.G.runs = (DB.G.runs || 0) + 1
//	var mod = DB.Create("mymod")
//	mod.Set("seen", true)
//
// A goja.Runtime is not safe for concurrent use; a Runtime serialises all
// script execution with its own mutex. Host keeps any number of named
// runtimes bound to the same store.
package script
