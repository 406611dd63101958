// Package common holds the configuration and logging setup shared by the
// sKV library and its command line interface.
//
// Logging goes through the dragonboat logger facade
// (github.com/lni/dragonboat/v4/logger). Every package obtains its named
// logger with logger.GetLogger and InitLoggers installs the sKV formatter and
// the configured level for all of them.
package common
