/*
Package logs 提供日志清理任务使用的日志记录存储。

List 只按租户过滤并按 id 升序分页（HasMore 表示后面还有数据），
保留期与 source/type 条件由调用方在内存中判断，因此游标在任意过滤条件下都稳定。

实现：

  - MemoryRepository：进程内存储
  - MongoRepository：MongoDB 集合，(tenant, _id) 索引
*/
package logs
