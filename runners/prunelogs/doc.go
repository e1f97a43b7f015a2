/*
Package prunelogs 实现按保留期清理日志的长任务。

删除条件是"或"关系：创建时间不晚于截止时间，或者匹配显式给出的
source / type 过滤条件。显式过滤条件因此扩大而不是缩小删除范围。
截止时间未给出时在第一次调用中取 now - Retention 并写入游标，之后的
调用沿用同一截止时间。
*/
package prunelogs
