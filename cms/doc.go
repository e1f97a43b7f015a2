/*
Package cms 提供删除模型任务所操作的内容存储：模型（Model）、条目（Entry）
与文件夹（Folder）。

列表方法按 id 升序、从游标之后分页返回，删除操作幂等，这两点保证了
重复投递同一游标时不会产生重复副作用。

实现：

  - MemoryRepository：进程内存储，测试与单机模式
  - GormRepository：cms_models / cms_entries / cms_folders 表

IndexSource 把条目暴露为搜索索引的主存储，供索引对账任务批量检查文档是否仍有对应记录。
*/
package cms
